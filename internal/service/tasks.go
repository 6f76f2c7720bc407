package service

import (
	"errors"
	"fmt"
	"os"

	"github.com/mesh-intelligence/folio/internal/tasks"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// Task returns a task p may see: its own, or any task for a superuser.
// Anonymous tasks are only reachable through their pickup key.
func (s *Service) Task(p types.Principal, id string) (tasks.Task, error) {
	t, err := s.runner.Get(id)
	if err != nil {
		return tasks.Task{}, err
	}
	if !taskVisible(p, t) {
		return tasks.Task{}, fmt.Errorf("%w: task %s", types.ErrNotFound, id)
	}
	return t, nil
}

func taskVisible(p types.Principal, t tasks.Task) bool {
	return p.Superuser || (!p.IsAnonymous() && t.OwnerID == p.ID)
}

// TaskList lists the tasks p may see.
func (s *Service) TaskList(p types.Principal) []tasks.Task {
	switch {
	case p.Superuser:
		return s.runner.List("")
	case p.IsAnonymous():
		return []tasks.Task{}
	}
	return s.runner.List(p.ID)
}

// CancelTask cancels a task p may see.
func (s *Service) CancelTask(p types.Principal, id string) error {
	if _, err := s.Task(p, id); err != nil {
		return err
	}
	return s.runner.Cancel(id)
}

// DeleteTask forgets a finished task p may see, removing an undownloaded
// export artifact with it.
func (s *Service) DeleteTask(p types.Principal, id string) error {
	t, err := s.Task(p, id)
	if err != nil {
		return err
	}
	if err := s.runner.Delete(id); err != nil {
		return err
	}
	if art, ok := t.Result.(*Artifact); ok {
		if err := os.Remove(art.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("task_id", id).Msg("removing artifact of deleted task")
		}
	}
	return nil
}
