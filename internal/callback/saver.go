package callback

import (
	"fmt"
	"log"
	"strings"

	"github.com/pkg/errors"

	"trainforge/internal/checkpoint"
	"trainforge/internal/learner"
)

// ModelSaver checkpoints every model at the end of every EveryN-th
// training epoch and after the last one. Each save writes
// <name>_epoch-<e>.pth and refreshes <name>.pth.
type ModelSaver struct {
	learner.BaseCallback

	Dir    string
	EveryN int
}

func (s *ModelSaver) OnTrainBegin(*learner.Context) error {
	if strings.TrimSpace(s.Dir) == "" {
		return errors.New("callback: model saver needs a directory")
	}
	return nil
}

func (s *ModelSaver) OnEpochEnd(ctx *learner.Context) error {
	if ctx.Step != learner.Training {
		return nil
	}
	every := s.EveryN
	if every < 1 {
		every = 1
	}
	if ctx.Epoch%every != 0 && ctx.Epoch != ctx.TotalEpochs {
		return nil
	}
	for _, m := range ctx.Models {
		name := fmt.Sprintf("%s_epoch-%d%s", m.Name(), ctx.Epoch, checkpoint.Ext)
		if err := checkpoint.Save(s.Dir, name, m); err != nil {
			return err
		}
		if err := checkpoint.Save(s.Dir, checkpoint.FileName(m), m); err != nil {
			return err
		}
	}
	log.Printf("epoch=%d saved %d models to %s", ctx.Epoch, len(ctx.Models), s.Dir)
	return nil
}
