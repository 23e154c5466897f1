package asynqadp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cvmatch/matching-engine/internal/domain"
)

func TestAsynqQueueName(t *testing.T) {
	assert.Equal(t, "high", asynqQueueName(domain.PriorityHigh))
	assert.Equal(t, "low", asynqQueueName(domain.PriorityLow))
	assert.Equal(t, "default", asynqQueueName(domain.PriorityNormal))
	assert.Equal(t, "urgent", asynqQueueName(domain.PriorityUrgent))
}

func TestPriority_Promoted(t *testing.T) {
	assert.Equal(t, domain.PriorityNormal, domain.PriorityLow.Promoted())
	assert.Equal(t, domain.PriorityHigh, domain.PriorityNormal.Promoted())
	assert.Equal(t, domain.PriorityUrgent, domain.PriorityHigh.Promoted())
	assert.Equal(t, domain.PriorityUrgent, domain.PriorityUrgent.Promoted())
}
