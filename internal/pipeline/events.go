package pipeline

import (
	"time"

	"mcoda/internal/types"
)

// emit routes one event to the run logger and the OnEvent stream. Data maps
// are shared, not copied; callers must not mutate them after emitting.
func (p *SmartPipeline) emit(eventType types.EventType, phase, laneID string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	if phase != "" {
		data["phase"] = phase
	}
	if laneID != "" {
		data["lane_id"] = laneID
	}

	if p.cfg.Logger != nil {
		p.cfg.Logger.Log(string(eventType), data)
	}
	if p.cfg.OnEvent != nil {
		p.cfg.OnEvent(types.Event{
			Type:      eventType,
			Timestamp: time.Now(),
			Phase:     phase,
			LaneID:    laneID,
			Data:      data,
		})
	}
}

// phaseStart emits phase_start plus the phase_input event with its artifact.
func (p *SmartPipeline) phaseStart(phase, laneID string, input interface{}) time.Time {
	p.emit(types.EventPhaseStart, phase, laneID, nil)

	data := map[string]interface{}{}
	if p.cfg.Logger != nil {
		if path, err := p.cfg.Logger.WritePhaseArtifact(phase, "input", input); err == nil {
			data["artifact"] = path
		}
	}
	p.emit(types.EventPhaseInput, phase, laneID, data)
	return time.Now()
}

// phaseEnd emits phase_output with its artifact and phase_end with the
// phase duration.
func (p *SmartPipeline) phaseEnd(phase, laneID string, started time.Time, output interface{}, phaseErr error) {
	data := map[string]interface{}{}
	if p.cfg.Logger != nil && output != nil {
		if path, err := p.cfg.Logger.WritePhaseArtifact(phase, "output", output); err == nil {
			data["artifact"] = path
		}
	}
	p.emit(types.EventPhaseOutput, phase, laneID, data)

	endData := map[string]interface{}{
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if phaseErr != nil {
		endData["error"] = phaseErr.Error()
	}
	p.emit(types.EventPhaseEnd, phase, laneID, endData)
	p.cfg.Metrics.ObservePhase(phase, time.Since(started).Seconds())
}
