package transport

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	topicPrefix = "onesided"
	rankInfix   = "-rank-"
)

var worldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidWorld reports whether name can be embedded in topic names on every
// backend. SNS topic names are the tightest constraint.
func ValidWorld(name string) bool {
	return worldPattern.MatchString(name)
}

// InboxTopic is the topic a rank of world subscribes to.
func InboxTopic(world string, rank int) string {
	return fmt.Sprintf("%s-%s%s%d", topicPrefix, world, rankInfix, rank)
}

// InboxRank extracts the rank from a topic built by InboxTopic.
func InboxRank(topic string) (int, bool) {
	idx := strings.LastIndex(topic, rankInfix)
	if idx < 0 || !strings.HasPrefix(topic, topicPrefix+"-") {
		return 0, false
	}
	rank, err := strconv.Atoi(topic[idx+len(rankInfix):])
	if err != nil || rank < 0 {
		return 0, false
	}
	return rank, true
}
