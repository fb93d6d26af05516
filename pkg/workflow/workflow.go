package workflow

import (
	log "github.com/sirupsen/logrus"
)

// Engine is the workflow side of the orchestration boundary. The
// reconciliation loop notifies it when a pending operation set resolves
// so the owning clean or deploy workflow can leave its wait state.
type Engine interface {
	NotifyResumeClean(nodeID string)
	NotifyResumeDeploy(nodeID string)
	CleanError(nodeID string, message string)
	DeployError(nodeID string, message string)
}

// LogEngine is an Engine that only records the notifications. Useful
// as a default wiring and in tests.
type LogEngine struct {
	logger *log.Entry
}

// NewLogEngine creates a logging-only engine
func NewLogEngine() *LogEngine {
	return &LogEngine{logger: log.WithField("Module", "Workflow")}
}

func (e *LogEngine) NotifyResumeClean(nodeID string) {
	e.logger.WithField("node", nodeID).Info("Resuming the cleaning workflow")
}

func (e *LogEngine) NotifyResumeDeploy(nodeID string) {
	e.logger.WithField("node", nodeID).Info("Resuming the deployment workflow")
}

func (e *LogEngine) CleanError(nodeID string, message string) {
	e.logger.WithFields(log.Fields{"node": nodeID, "error": message}).Error("Cleaning workflow failed")
}

func (e *LogEngine) DeployError(nodeID string, message string) {
	e.logger.WithFields(log.Fields{"node": nodeID, "error": message}).Error("Deployment workflow failed")
}
