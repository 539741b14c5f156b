package service

import (
	"context"
	"fmt"

	"relayd/internal/configver"
	"relayd/internal/registry"
	"relayd/internal/relay"
	"relayd/internal/taskstore"

	"github.com/sirupsen/logrus"
)

// TaskService implements the task lifecycle on top of the task store
type TaskService struct {
	store    *taskstore.Store
	registry *registry.Registry
	serials  *configver.Tracker
	logger   *logrus.Entry
}

// TaskServiceConfig holds the dependencies of the task service
type TaskServiceConfig struct {
	Store    *taskstore.Store
	Registry *registry.Registry
	Serials  *configver.Tracker
	Logger   *logrus.Entry
}

// NewTaskService creates a new task service
func NewTaskService(cfg *TaskServiceConfig) *TaskService {
	return &TaskService{
		store:    cfg.Store,
		registry: cfg.Registry,
		serials:  cfg.Serials,
		logger:   cfg.Logger.WithField("component", "relay-tasks"),
	}
}

// ActivationResult is the outcome of the config fan-out for one relay
type ActivationResult struct {
	RelayID relay.RelayID `json:"relayId"`
	TaskID  relay.TaskID  `json:"taskId,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// PollResult is what a relay receives when it polls for tasks
type PollResult struct {
	Serial relay.Serial `json:"serial"`
	Tasks  []relay.Task `json:"tasks"`
}

// CreateTask stores a new pending task for a relay and returns its id
func (s *TaskService) CreateTask(ctx context.Context, relayID relay.RelayID, spec relay.TaskSpec) (relay.TaskID, error) {
	task, err := s.store.StoreTask(relayID, spec)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"relayId": relayID,
			"kind":    spec.Kind(),
		}).WithError(err).Warn("Task rejected")
		return "", err
	}

	s.logger.WithFields(logrus.Fields{
		"relayId": relayID,
		"taskId":  task.ID,
		"kind":    spec.Kind(),
	}).Info("Task created")
	return task.ID, nil
}

// UpdateTask records the result a relay reported for a task
func (s *TaskService) UpdateTask(ctx context.Context, relayID relay.RelayID, taskID relay.TaskID, resultType relay.ResultType, payload []byte) (relay.Task, error) {
	task, err := s.store.UpdateTask(relayID, taskID, resultType, payload)
	if err != nil {
		return relay.Task{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"relayId": relayID,
		"taskId":  taskID,
		"status":  task.Status,
	}).Info("Task updated")
	return task, nil
}

// ActivateConfig advances the config serial and creates one config task
// for every registered relay. An empty serial generates a new one.
// A failure for one relay is recorded in its result and does not stop
// the fan-out.
func (s *TaskService) ActivateConfig(ctx context.Context, serial relay.Serial) ([]ActivationResult, relay.Serial, error) {
	current, err := s.serials.Advance(serial)
	if err != nil {
		return nil, "", fmt.Errorf("failed to advance config serial: %w", err)
	}

	relayIDs := s.registry.List()
	results := make([]ActivationResult, 0, len(relayIDs))
	failed := 0

	for _, relayID := range relayIDs {
		result := ActivationResult{RelayID: relayID}

		taskID, err := s.activateRelay(ctx, current, relayID)
		if err != nil {
			result.Error = err.Error()
			failed++
		} else {
			result.TaskID = taskID
		}
		results = append(results, result)
	}

	s.logger.WithFields(logrus.Fields{
		"serial": current,
		"relays": len(relayIDs),
		"failed": failed,
	}).Info("Config activated")

	return results, current, nil
}

func (s *TaskService) activateRelay(ctx context.Context, serial relay.Serial, relayID relay.RelayID) (relay.TaskID, error) {
	tarData, err := s.serials.Bundle(serial, relayID)
	if err != nil {
		s.logger.WithField("relayId", relayID).WithError(err).Error("Failed to pack relay config")
		return "", err
	}
	return s.CreateTask(ctx, relayID, relay.RelayConfigSpec{Serial: serial, TarData: tarData})
}

// PollTasks returns the live tasks of a relay, optionally filtered by status.
// A relay that presents a stale serial, or that has no config folder for
// the current serial, gets an empty list instead of an error.
func (s *TaskService) PollTasks(ctx context.Context, relayID relay.RelayID, status *relay.Status, serial *relay.Serial) PollResult {
	current := s.serials.Current()
	result := PollResult{Serial: current, Tasks: []relay.Task{}}

	if serial != nil {
		if *serial != current {
			s.logger.WithFields(logrus.Fields{
				"relayId": relayID,
				"serial":  *serial,
				"current": current,
			}).Debug("Stale serial, no tasks for this poll")
			return result
		}
		if !s.serials.HasRelayConfig(current, relayID) {
			s.logger.WithFields(logrus.Fields{
				"relayId": relayID,
				"serial":  current,
			}).Debug("No relay config folder, no tasks for this poll")
			return result
		}
	}

	result.Tasks = s.store.GetTasks(relayID, status)
	return result
}

// Serial returns the current config serial
func (s *TaskService) Serial() relay.Serial {
	return s.serials.Current()
}
