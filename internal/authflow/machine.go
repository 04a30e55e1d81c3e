// Package authflow はログイン・登録・パスワード再設定・メール確認の各フォームの
// 送信処理を状態機械として実装する。
package authflow

import (
	"errors"
	"fmt"
)

// State はフォーム送信の状態。
type State string

const (
	StateIdle        State = "idle"
	StateSubmitting  State = "submitting"
	StateSuccess     State = "success"
	StateError       State = "error"
	StateRedirecting State = "redirecting"
)

// ErrInvalidTransition は許可されていない状態遷移を示す。
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State][]State{
	StateIdle:       {StateSubmitting},
	StateSubmitting: {StateSuccess, StateError},
	StateSuccess:    {StateRedirecting, StateSubmitting},
	StateError:      {StateSubmitting, StateIdle},
}

// Machine は1回のフォーム送信の状態を追跡する。
type Machine struct {
	state State
}

// NewMachine はIdle状態のMachineを生成する。
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State は現在の状態を返す。
func (m *Machine) State() State {
	return m.state
}

// Transition は状態を遷移させる。許可されていない遷移はErrInvalidTransitionを返し、状態は変わらない。
func (m *Machine) Transition(to State) error {
	for _, next := range transitions[m.state] {
		if next == to {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
}
