package relay_tasks

import (
	"encoding/json"
	"time"

	"relayd/internal/configver"
	"relayd/internal/httpx"
	"relayd/internal/payload"
	"relayd/internal/relay"
	"relayd/internal/service"

	"github.com/gin-gonic/gin"
)

// Handler handles relay task endpoints
type Handler struct {
	tasks *service.TaskService
}

// NewHandler creates a new relay task handler
func NewHandler(tasks *service.TaskService) *Handler {
	return &Handler{tasks: tasks}
}

// CreateRequest represents create task request
type CreateRequest struct {
	Spec json.RawMessage `json:"spec" binding:"required"`
}

// UpdateRequest represents the result a relay reports for a task.
// ResultPayload is base64 in JSON; Encoding names its compression.
type UpdateRequest struct {
	ResultType    string `json:"resultType" binding:"required"`
	ResultPayload []byte `json:"resultPayload"`
	Encoding      string `json:"encoding"`
}

// ListRequest represents the poll query
type ListRequest struct {
	Status *string `form:"status"`
	Serial *string `form:"serial"`
}

// ActivateRequest represents config activation request
type ActivateRequest struct {
	Serial string `json:"serial"`
}

// TaskItem is the JSON form of a task
type TaskItem struct {
	ID            relay.TaskID     `json:"id"`
	RelayID       relay.RelayID    `json:"relayId"`
	Spec          json.RawMessage  `json:"spec"`
	Status        relay.Status     `json:"status"`
	ResultType    relay.ResultType `json:"resultType,omitempty"`
	ResultPayload []byte           `json:"resultPayload,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// NewTaskItem converts a task for the response
func NewTaskItem(task relay.Task) (TaskItem, error) {
	spec, err := relay.EncodeSpec(task.Spec)
	if err != nil {
		return TaskItem{}, err
	}
	return TaskItem{
		ID:            task.ID,
		RelayID:       task.RelayID,
		Spec:          spec,
		Status:        task.Status,
		ResultType:    task.ResultType,
		ResultPayload: task.ResultPayload,
		CreatedAt:     task.CreatedAt,
		UpdatedAt:     task.UpdatedAt,
	}, nil
}

// Create handles POST /api/v1/relays/:relayId/tasks
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	spec, err := relay.DecodeSpec(req.Spec)
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	taskID, err := h.tasks.CreateTask(c.Request.Context(), relay.RelayID(c.Param("relayId")), spec)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	httpx.OK(c, gin.H{"taskId": taskID})
}

// List handles GET /api/v1/relays/:relayId/tasks
func (h *Handler) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	var status *relay.Status
	if req.Status != nil && *req.Status != "" {
		parsed, err := relay.ParseStatus(*req.Status)
		if err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
			return
		}
		status = &parsed
	}
	var serial *relay.Serial
	if req.Serial != nil {
		s := relay.Serial(*req.Serial)
		serial = &s
	}

	result := h.tasks.PollTasks(c.Request.Context(), relay.RelayID(c.Param("relayId")), status, serial)

	items := make([]TaskItem, 0, len(result.Tasks))
	for _, task := range result.Tasks {
		item, err := NewTaskItem(task)
		if err != nil {
			httpx.FailErr(c, httpx.ErrInternalError("failed to encode task", err))
			return
		}
		items = append(items, item)
	}

	httpx.OK(c, gin.H{
		"serial": result.Serial,
		"items":  items,
		"total":  len(items),
	})
}

// Update handles POST /api/v1/relays/:relayId/tasks/:taskId
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	resultType, err := relay.ParseResultType(req.ResultType)
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	data, err := payload.Inflate(req.Encoding, req.ResultPayload)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	task, err := h.tasks.UpdateTask(c.Request.Context(),
		relay.RelayID(c.Param("relayId")), relay.TaskID(c.Param("taskId")), resultType, data)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	item, err := NewTaskItem(task)
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to encode task", err))
		return
	}
	httpx.OK(c, item)
}

// ActivateConfig handles POST /api/v1/relays/activate-config
func (h *Handler) ActivateConfig(c *gin.Context) {
	var req ActivateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
			return
		}
	}

	if req.Serial != "" && !configver.ValidSerial(relay.Serial(req.Serial)) {
		httpx.FailErr(c, httpx.ErrParamIllegal("serial must be a single path element"))
		return
	}

	results, serial, err := h.tasks.ActivateConfig(c.Request.Context(), relay.Serial(req.Serial))
	if err != nil {
		httpx.Error(c, err)
		return
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	httpx.OK(c, gin.H{
		"serial": serial,
		"items":  results,
		"total":  len(results),
		"failed": failed,
	})
}

// Serial handles GET /api/v1/serial
func (h *Handler) Serial(c *gin.Context) {
	httpx.OK(c, gin.H{"serial": h.tasks.Serial()})
}
