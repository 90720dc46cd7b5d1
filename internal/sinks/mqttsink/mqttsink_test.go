package mqttsink

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pyroscan/pyroscan/internal/reading"
)

// Connecting to a live broker is out of scope for unit tests; this
// guards the topic naming convention Run/publish rely on.
func TestTopicNaming(t *testing.T) {
	r := reading.Reading{DeviceID: "dev-42"}
	topic := fmt.Sprintf("%s/%s", "pyroscan/readings", r.DeviceID)
	assert.Equal(t, "pyroscan/readings/dev-42", topic)
}
