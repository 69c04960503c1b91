package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerator_InvalidWorker(t *testing.T) {
	_, err := NewGenerator(-1)
	assert.Error(t, err)
	_, err = NewGenerator(maxWorkerID + 1)
	assert.Error(t, err)
}

func TestGenerator_UniqueConcurrent(t *testing.T) {
	g, err := NewGenerator(7)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[int64]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				v := g.Generate()
				mu.Lock()
				seen[v] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 4000)
}

func TestParseID(t *testing.T) {
	g, err := NewGenerator(42)
	require.NoError(t, err)

	before := time.Now().UnixMilli()
	v := g.Generate()
	ts, worker, _ := ParseID(v)

	assert.Equal(t, int64(42), worker)
	assert.GreaterOrEqual(t, ts, before)
}

func TestGenerateString_Prefix(t *testing.T) {
	g, err := NewGenerator(1)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(g.GenerateString("clm"), "clm_"))
	assert.NotContains(t, g.GenerateString(""), "_")
}
