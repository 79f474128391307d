package coordinator

import "time"

// State is the generation state of the coordinator.
type State int

const (
	Idle State = iota
	Generating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Generating:
		return "generating"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type EventKind string

const (
	EventGenerating       EventKind = "generating"
	EventPending          EventKind = "pending"
	EventSuggestions      EventKind = "suggestions"
	EventFailed           EventKind = "failed"
	EventUnavailable      EventKind = "unavailable"
	EventSelfMessage      EventKind = "self_message"
	EventContextCleared   EventKind = "context_cleared"
	EventSelected         EventKind = "selected"
	EventCopyAll          EventKind = "copy_all"
	EventFeedbackRecorded EventKind = "feedback_recorded"
	EventFeedbackFailed   EventKind = "feedback_failed"
)

// Request is one issued generation call. Context is the window snapshot
// taken when the call was issued and is never mutated afterwards.
type Request struct {
	ID       string    `json:"id"`
	Message  string    `json:"message"`
	Context  []string  `json:"context"`
	IssuedAt time.Time `json:"issued_at"`
}

// Event is emitted for presentation. Fields not relevant to Kind are zero.
type Event struct {
	Kind       EventKind `json:"kind"`
	Request    *Request  `json:"request,omitempty"`
	Candidates []string  `json:"candidates,omitempty"`
	Chosen     string    `json:"chosen,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State       State     `json:"state"`
	Pending     bool      `json:"pending"`
	ContextLen  int       `json:"context_len"`
	LastRequest *Request  `json:"last_request,omitempty"`
	Candidates  []string  `json:"candidates"`
	Text        string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	statusReady         = "就绪"
	statusGenerating    = "生成中..."
	statusPending       = "生成中，已缓存最新消息"
	statusGenerated     = "已生成"
	statusNoSuggestions = "暂无建议"
	statusUnavailable   = "未配置生成服务"
	statusSelfMessage   = "已忽略疑似自己消息"
	statusCleared       = "上下文已清空"
	statusRecorded      = "已记录偏好"
	statusCopiedAll     = "已复制全部"
)
