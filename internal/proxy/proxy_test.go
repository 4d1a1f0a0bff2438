package proxy

import (
	"testing"

	"routstr/internal/cost"

	"github.com/stretchr/testify/assert"
)

func TestIsEventStream(t *testing.T) {
	assert.True(t, isEventStream("text/event-stream"))
	assert.True(t, isEventStream("text/event-stream; charset=utf-8"))
	assert.False(t, isEventStream("application/json"))
	assert.False(t, isEventStream(""))
}

func TestInjectCost_AddsCostKey(t *testing.T) {
	body := []byte(`{"id":"chatcmpl-1","model":"gpt-x"}`)
	data := cost.Data{Kind: cost.KindCost, BaseMsats: 1, InputMsats: 2, OutputMsats: 3, TotalMsats: 6}

	out := injectCost(body, data)

	assert.Contains(t, string(out), `"id":"chatcmpl-1"`)
	assert.Contains(t, string(out), `"total_msats":6`)
	assert.Contains(t, string(out), `"base_msats":1`)
}

func TestInjectCost_NonObjectBodyPassesThrough(t *testing.T) {
	body := []byte(`not json`)
	out := injectCost(body, cost.Data{TotalMsats: 5})
	assert.Equal(t, body, out)
}

func TestCostFields(t *testing.T) {
	fields := costFields(cost.Data{BaseMsats: 1, InputMsats: 2, OutputMsats: 3, TotalMsats: 6})
	assert.Equal(t, int64(6), fields["total_msats"])
}
