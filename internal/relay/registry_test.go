package relay

import (
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applypilot/captcha-bridge/internal/captcha"
)

func testDescriptor() captcha.Descriptor {
	return captcha.Descriptor{
		Type:    captcha.TypeRecaptchaV2,
		SiteKey: "sk",
		PageURL: "https://example.com",
	}
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()

	req := reg.Begin(testDescriptor())
	require.NotEmpty(t, req.ID)
	assert.Equal(t, 1, reg.InFlight())

	result, err := reg.Complete(req.ID, captcha.Solved("tok"))
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, 0, reg.InFlight())
}

func TestRegistryRejectsSecondResult(t *testing.T) {
	reg := NewRegistry()
	req := reg.Begin(testDescriptor())

	_, err := reg.Complete(req.ID, captcha.Solved("tok"))
	require.NoError(t, err)

	_, err = reg.Complete(req.ID, captcha.Failed(captcha.ReasonTimeout))
	assert.Error(t, err)
}

func TestRegistryRejectsUnknownID(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Complete("never-issued", captcha.Solved("tok"))
	assert.Error(t, err)
}

func TestRegistryDistinctIDs(t *testing.T) {
	reg := NewRegistry()
	a := reg.Begin(testDescriptor())
	b := reg.Begin(testDescriptor())
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, reg.InFlight())
}

// TestProperty_ExactlyOnceResolution drives N requests with M concurrent
// completion attempts each and checks that exactly one attempt per request
// succeeds, regardless of interleaving.
func TestProperty_ExactlyOnceResolution(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("exactly one completion wins per request", prop.ForAll(
		func(requests int, attempts int) bool {
			reg := NewRegistry()

			ids := make([]string, requests)
			for i := range ids {
				ids[i] = reg.Begin(testDescriptor()).ID
			}

			successes := make([]int, requests)
			var mu sync.Mutex
			var wg sync.WaitGroup

			for i, id := range ids {
				for a := 0; a < attempts; a++ {
					wg.Add(1)
					go func(slot int, id string) {
						defer wg.Done()
						if _, err := reg.Complete(id, captcha.Solved("tok")); err == nil {
							mu.Lock()
							successes[slot]++
							mu.Unlock()
						}
					}(i, id)
				}
			}
			wg.Wait()

			if reg.InFlight() != 0 {
				return false
			}
			for _, n := range successes {
				if n != 1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
