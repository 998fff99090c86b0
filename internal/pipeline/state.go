package pipeline

// RecorderState is the recording-side state.
type RecorderState int

const (
	// RecorderIdle waits for speech with a free buffer.
	RecorderIdle RecorderState = iota

	// RecorderDetecting has seen qualifying frames that are not yet confirmed
	// speech.
	RecorderDetecting

	// RecorderRecording is accumulating frames into the Recording.
	RecorderRecording

	// RecorderProcessing has handed its finished Recording to the consumer and
	// waits for it to be released.
	RecorderProcessing
)

// String returns the display name of s.
func (s RecorderState) String() string {
	switch s {
	case RecorderIdle:
		return "IDLE"
	case RecorderDetecting:
		return "DETECTING"
	case RecorderRecording:
		return "RECORDING"
	case RecorderProcessing:
		return "PROCESSING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s RecorderState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ConsumerState is the hand-off side state reported by the consumer.
type ConsumerState int

const (
	// ConsumerIdle waits for a notification.
	ConsumerIdle ConsumerState = iota

	// ConsumerRecording is never set by the consumer. [Status.Phase] reports it
	// while the consumer is idle and the recorder is capturing.
	ConsumerRecording

	// ConsumerEncoding converts a checked-out Recording to the wire format.
	ConsumerEncoding

	// ConsumerUploading performs the network call with capture paused.
	ConsumerUploading

	// ConsumerDisplaying holds a fresh transcript on screen.
	ConsumerDisplaying

	// ConsumerError holds a diagnostic code on screen.
	ConsumerError
)

// String returns the display name of s.
func (s ConsumerState) String() string {
	switch s {
	case ConsumerIdle:
		return "IDLE"
	case ConsumerRecording:
		return "RECORDING"
	case ConsumerEncoding:
		return "ENCODING"
	case ConsumerUploading:
		return "UPLOADING"
	case ConsumerDisplaying:
		return "DISPLAYING"
	case ConsumerError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConsumerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Owner identifies who may touch the Recording buffer.
type Owner int

const (
	// OwnerRecorder lets the state machine reset and append.
	OwnerRecorder Owner = iota

	// OwnerPending marks a finished Recording waiting for checkout. The
	// recorder may withdraw it when newer speech starts.
	OwnerPending

	// OwnerConsumer marks a Recording checked out through a [Lease]. The
	// recorder must not touch the buffer until the lease is released.
	OwnerConsumer
)

// String returns the name of o.
func (o Owner) String() string {
	switch o {
	case OwnerRecorder:
		return "recorder"
	case OwnerPending:
		return "pending"
	case OwnerConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// Status is a consistent snapshot of both state machines.
type Status struct {
	Recorder   RecorderState `json:"recorder"`
	Consumer   ConsumerState `json:"consumer"`
	Owner      string        `json:"owner"`
	Ready      bool          `json:"ready"`
	Paused     bool          `json:"paused"`
	Calibrated bool          `json:"calibrated"`
}

// Phase is the single state shown on the status screen: the consumer state,
// or Recording while the consumer is idle and speech is being captured.
func (s Status) Phase() ConsumerState {
	if s.Consumer == ConsumerIdle && s.Recorder == RecorderRecording {
		return ConsumerRecording
	}
	return s.Consumer
}
