package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mo3789530/wasmatrix/internal/domain"
)

func TestEventRecorderOrderingAndFiltering(t *testing.T) {
	r := NewEventRecorder()
	r.Append(domain.EventInstanceStarted, "a", nil)
	r.Append(domain.EventInstanceStarted, "b", nil)
	r.Append(domain.EventInstanceStopped, "a", nil)

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, domain.EventInstanceStarted, all[0].EventType)
	assert.Equal(t, domain.EventInstanceStopped, all[2].EventType)

	forA := r.ForInstance("a")
	require.Len(t, forA, 2)
	assert.Equal(t, "a", forA[0].InstanceID)
	assert.Equal(t, "a", forA[1].InstanceID)

	r.Clear("a")
	assert.Empty(t, r.ForInstance("a"))
	assert.Len(t, r.All(), 1)
}
