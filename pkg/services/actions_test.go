package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionLog_AppendsInOrder(t *testing.T) {
	log := NewActionLog(testClock())

	msg := log.Addf("Referral %s imported", "WAPC123")
	log.Addf("Task generated")

	assert.Equal(t, "Referral WAPC123 imported", msg, "Addf returns the message without the timestamp")

	entries := log.Entries()
	assert.Len(t, entries, 2)
	assert.True(t, strings.HasSuffix(entries[0], "Referral WAPC123 imported"))
	assert.True(t, strings.HasPrefix(entries[0], "2026-03-02T09:00:00Z"))
	assert.True(t, strings.HasSuffix(entries[1], "Task generated"))
}

func TestActionLog_Text(t *testing.T) {
	log := NewActionLog(testClock())
	assert.Empty(t, log.Text())

	log.Addf("one")
	log.Addf("two")
	assert.Equal(t, 2, len(strings.Split(log.Text(), "\n")))
}
