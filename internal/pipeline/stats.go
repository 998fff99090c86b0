package pipeline

import (
	"time"

	"github.com/MrWong99/voxtap/pkg/provider/vad"
)

// energyAlpha weights the newest frame in the running average energy.
const energyAlpha = 0.1

// Stats are the pipeline counters since start or the last [Pipeline.ResetStats].
type Stats struct {
	FramesProcessed uint64        `json:"frames_processed"`
	SpeechFrames    uint64        `json:"speech_frames"`
	SpeechSegments  uint64        `json:"speech_segments"`
	TotalSpeech     time.Duration `json:"total_speech_ns"`
	AvgEnergy       float64       `json:"avg_energy"`
	MaxEnergy       float64       `json:"max_energy"`
	DiscardedShort  uint64        `json:"discarded_short"`
	Superseded      uint64        `json:"superseded"`
	BusySkips       uint64        `json:"busy_skips"`
	ForcedFinalize  uint64        `json:"forced_finalize"`
	Feeds           uint64        `json:"feeds"`
	Overruns        uint64        `json:"overruns"`
	UploadsOK       uint64        `json:"uploads_ok"`
	UploadsFailed   uint64        `json:"uploads_failed"`
	Threshold       float64       `json:"threshold"`
	NoiseFloor      float64       `json:"noise_floor"`
}

func (s *Stats) observe(d vad.Decision) {
	s.FramesProcessed++
	if d.Speech {
		s.SpeechFrames++
	}
	s.AvgEnergy = s.AvgEnergy*(1-energyAlpha) + d.Energy*energyAlpha
	if d.Energy > s.MaxEnergy {
		s.MaxEnergy = d.Energy
	}
	s.Threshold = d.Threshold
	s.NoiseFloor = d.NoiseFloor
}

// Stats returns a copy of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Overruns = p.ring.Overruns() - p.overrunRef
	return s
}

// ResetStats clears the counters. The detector threshold and noise floor are
// kept since they describe live state.
func (p *Pipeline) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = Stats{Threshold: p.stats.Threshold, NoiseFloor: p.stats.NoiseFloor}
	p.overrunRef = p.ring.Overruns()
}
