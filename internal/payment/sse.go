package payment

import (
	"bytes"
	"context"

	"routstr/internal/cost"
)

const sseDataPrefix = "data: "

// ScanUsageFrame implements spec §4.F's streaming-finalize step 2: scan
// an accumulated SSE buffer from the tail for the first `data: {...}`
// frame whose JSON body contains a `usage` key, returning that frame's
// JSON payload. The proxy engine accumulates sseBuffer as it tees bytes
// to the client; this function is pure so it can be unit tested without
// any network or DB dependency.
func ScanUsageFrame(sseBuffer []byte) ([]byte, bool) {
	frames := bytes.Split(sseBuffer, []byte("\n\n"))
	for i := len(frames) - 1; i >= 0; i-- {
		frame := bytes.TrimSpace(frames[i])
		if !bytes.HasPrefix(frame, []byte(sseDataPrefix)) {
			continue
		}
		payload := bytes.TrimPrefix(frame, []byte(sseDataPrefix))
		if bytes.Equal(bytes.TrimSpace(payload), []byte("[DONE]")) {
			continue
		}
		if bytes.Contains(payload, []byte(`"usage"`)) {
			return payload, true
		}
	}
	return nil, false
}

// FinalizeStreaming implements spec §4.F's streaming finalize: it is
// called after the upstream stream has ended (or been interrupted), in a
// fresh DB session as the spec requires ("the streaming handler's session
// may have been closed"). If no usage frame was ever observed, it
// finalizes at the full reservation.
func (m *Machine) FinalizeStreaming(ctx context.Context, res *Reservation, sseBuffer []byte) (cost.Data, error) {
	usageFrame, found := ScanUsageFrame(sseBuffer)
	if !found {
		if err := m.FinalizeAtMax(ctx, res); err != nil {
			return cost.Data{Kind: cost.KindMaxCost, TotalMsats: res.ReservedMsats}, err
		}
		return cost.Data{Kind: cost.KindMaxCost, TotalMsats: res.ReservedMsats}, nil
	}

	return m.FinalizeNonStreaming(ctx, res, usageFrame)
}
