package orders

import (
	"fmt"

	"github.com/mmeshcher/warmconnects/internal/model"
)

// Role: роль участника перехода.
type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSeller   Role = "seller"
	RoleSystem   Role = "system"
	RoleResolver Role = "resolver"
)

// EscrowEffect: действие с эскроу, выполняемое вместе с переходом.
type EscrowEffect int

const (
	EffectNone EscrowEffect = iota
	EffectRefund
	EffectRelease
)

// Edge: допустимый переход из статуса по событию.
type Edge struct {
	To     model.OrderStatus
	Roles  []Role
	Effect EscrowEffect
}

func (e Edge) allows(r Role) bool {
	for _, role := range e.Roles {
		if role == r {
			return true
		}
	}
	return false
}

var transitions = map[model.OrderStatus]map[model.OrderEvent]Edge{
	model.StatusPendingAcceptance: {
		model.EventAccept:  {To: model.StatusAccepted, Roles: []Role{RoleSeller}},
		model.EventDecline: {To: model.StatusCancelled, Roles: []Role{RoleSeller}, Effect: EffectRefund},
		model.EventCancel:  {To: model.StatusCancelled, Roles: []Role{RoleBuyer, RoleSystem}, Effect: EffectRefund},
	},
	model.StatusAccepted: {
		model.EventCancel:  {To: model.StatusCancelled, Roles: []Role{RoleBuyer, RoleSystem}, Effect: EffectRefund},
		model.EventDeliver: {To: model.StatusDelivered, Roles: []Role{RoleSeller}},
	},
	model.StatusDelivered: {
		model.EventApprove:         {To: model.StatusApproved, Roles: []Role{RoleBuyer}, Effect: EffectRelease},
		model.EventRequestRevision: {To: model.StatusAccepted, Roles: []Role{RoleBuyer}},
		model.EventOpenDispute:     {To: model.StatusDisputed, Roles: []Role{RoleBuyer, RoleSeller}},
	},
	model.StatusApproved: {
		model.EventComplete: {To: model.StatusCompleted, Roles: []Role{RoleSystem}},
	},
	model.StatusDisputed: {
		model.EventResolveRefund:    {To: model.StatusRefunded, Roles: []Role{RoleResolver}, Effect: EffectRefund},
		model.EventResolvePaySeller: {To: model.StatusCompleted, Roles: []Role{RoleResolver}, Effect: EffectRelease},
	},
}

// Lookup проверяет событие для заказа в статусе from и роли role.
// Порядок проверок: терминальный статус, наличие перехода, роль.
func Lookup(from model.OrderStatus, event model.OrderEvent, role Role) (Edge, error) {
	if from.IsTerminal() {
		return Edge{}, fmt.Errorf("%w: order is %s", model.ErrOrderClosed, from)
	}

	edge, ok := transitions[from][event]
	if !ok {
		return Edge{}, fmt.Errorf("%w: %s from %s", model.ErrInvalidTransition, event, from)
	}

	if !edge.allows(role) {
		return Edge{}, fmt.Errorf("%w: %s cannot %s", model.ErrUnauthorizedActor, role, event)
	}
	return edge, nil
}

// Allowed сообщает, есть ли переход из статуса по событию для какой-либо роли.
func Allowed(from model.OrderStatus, event model.OrderEvent) bool {
	_, ok := transitions[from][event]
	return ok
}
