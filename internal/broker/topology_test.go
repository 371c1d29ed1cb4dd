package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evidchain/ai-analysis-service/internal/domain"
)

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "image.analysis.queue", TaskQueue(domain.MediaTypeImage))
	assert.Equal(t, "video.analysis.queue", TaskQueue(domain.MediaTypeVideo))
	assert.Equal(t, "document.analysis.queue", TaskQueue(domain.MediaTypeDocument))
	assert.Equal(t, "audio.analysis.queue", TaskQueue(domain.MediaTypeAudio))
}

func TestRoutingKeys(t *testing.T) {
	for _, mt := range domain.MediaTypes {
		assert.Equal(t, string(mt), TaskRoutingKey(mt))
		assert.Equal(t, string(mt)+".failed", DeadLetterRoutingKey(mt))
	}
}

func TestTopologyConstants(t *testing.T) {
	// Queue names must differ per media type and never collide with the
	// shared queues.
	seen := map[string]bool{ResultsQueue: true, DeadLetterQueue: true}
	for _, mt := range domain.MediaTypes {
		name := TaskQueue(mt)
		assert.False(t, seen[name], "duplicate queue name %s", name)
		seen[name] = true
	}

	assert.Equal(t, 10, MaxPriority)
}
