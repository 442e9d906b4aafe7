package rollout

import "fmt"

// State is a node of the rollout state machine.
type State string

const (
	Idle                     State = "Idle"
	PrecheckingTooling       State = "PrecheckingTooling"
	ApplyingNamespace        State = "ApplyingNamespace"
	ApplyingSecretsAndConfig State = "ApplyingSecretsAndConfig"
	ApplyingStatefulTier     State = "ApplyingStatefulTier"
	AwaitingStatefulReady    State = "AwaitingStatefulReady"
	ApplyingStatelessTiers   State = "ApplyingStatelessTiers"
	ApplyingRoutingRule      State = "ApplyingRoutingRule"
	Complete                 State = "Complete"
	Aborted                  State = "Aborted"
)

// transitions lists the legal successors of every state. Every step may abort;
// Idle and the terminal states may not.
var transitions = map[State][]State{
	Idle:                     {PrecheckingTooling},
	PrecheckingTooling:       {ApplyingNamespace, Aborted},
	ApplyingNamespace:        {ApplyingSecretsAndConfig, Aborted},
	ApplyingSecretsAndConfig: {ApplyingStatefulTier, Aborted},
	ApplyingStatefulTier:     {AwaitingStatefulReady, Aborted},
	AwaitingStatefulReady:    {ApplyingStatelessTiers, Aborted},
	ApplyingStatelessTiers:   {ApplyingRoutingRule, Aborted},
	ApplyingRoutingRule:      {Complete, Aborted},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Complete || s == Aborted
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !canTransition(from, to) {
		return fmt.Errorf("illegal rollout transition %s -> %s", from, to)
	}
	return nil
}
