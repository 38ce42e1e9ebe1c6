package node

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a submitted process.
type State string

const (
	StateCreated  State = "created"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateExcepted State = "excepted"
)

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateExcepted
}

// Resources requests compute for one job.
type Resources struct {
	NumMachines           int `json:"num_machines,omitempty" yaml:"num_machines"`
	NumMPIProcsPerMachine int `json:"num_mpiprocs_per_machine" yaml:"num_mpiprocs_per_machine"`
}

// Options is the metadata.options record of a calculation.
type Options struct {
	Resources           Resources `json:"resources" yaml:"resources"`
	WithMPI             *bool     `json:"withmpi,omitempty" yaml:"withmpi"`
	MaxWallclockSeconds int       `json:"max_wallclock_seconds,omitempty" yaml:"max_wallclock_seconds"`
	QueueName           string    `json:"queue_name,omitempty" yaml:"queue_name"`
}

// Normalized returns a copy with defaults filled in: one machine when none is
// requested, and MPI enabled exactly when more than one process is requested.
func (o Options) Normalized() Options {
	out := o
	if out.Resources.NumMachines == 0 {
		out.Resources.NumMachines = 1
	}
	if out.WithMPI == nil {
		mpi := out.Resources.NumMachines*out.Resources.NumMPIProcsPerMachine > 1
		out.WithMPI = &mpi
	}
	return out
}

func (o Options) Validate() error {
	if o.Resources.NumMachines < 0 {
		return fmt.Errorf("resources.num_machines must not be negative, got %d", o.Resources.NumMachines)
	}
	if o.Resources.NumMPIProcsPerMachine < 1 {
		return errors.New("resources.num_mpiprocs_per_machine must be at least 1")
	}
	if o.MaxWallclockSeconds < 0 {
		return errors.New("max_wallclock_seconds must not be negative")
	}
	return nil
}

// Process records one submitted calculation or workchain.
type Process struct {
	Kind       string           `json:"kind"`
	State      State            `json:"state"`
	Inputs     map[string]int64 `json:"inputs,omitempty"`
	Outputs    map[string]int64 `json:"outputs,omitempty"`
	Options    Options          `json:"options"`
	AgentID    string           `json:"agent_id,omitempty"`
	ExitStatus int              `json:"exit_status,omitempty"`
	ExitMsg    string           `json:"exit_message,omitempty"`
}

// JobHandle identifies a scheduled process. The submitter holds nothing else.
type JobHandle struct {
	PK      int64  `json:"pk"`
	UUID    string `json:"uuid"`
	Process string `json:"process"`
	State   State  `json:"state"`
}
