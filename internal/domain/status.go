// Package domain defines the persistence models and value types shared by the
// repository, service, and transport layers.
//
// This file holds the order and item status enums together with the single
// authoritative transition table for each. Every status change in the system
// (reconciliation, kitchen updates, item updates) is validated against these
// tables; nothing else decides which edges exist.
package domain

import "strings"

// OrderStatus is the lifecycle state of a DeviceOrder.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderConfirmed  OrderStatus = "CONFIRMED"
	OrderInProgress OrderStatus = "IN_PROGRESS"
	OrderReady      OrderStatus = "READY"
	OrderServed     OrderStatus = "SERVED"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderVoided     OrderStatus = "VOIDED"
	OrderArchived   OrderStatus = "ARCHIVED"
)

// ItemStatus is the lifecycle state of a single DeviceOrderItem.
type ItemStatus string

const (
	ItemPending   ItemStatus = "PENDING"
	ItemPreparing ItemStatus = "PREPARING"
	ItemReady     ItemStatus = "READY"
	ItemServed    ItemStatus = "SERVED"
	ItemCancelled ItemStatus = "CANCELLED"
	ItemVoided    ItemStatus = "VOIDED"
	ItemReturned  ItemStatus = "RETURNED"
)

// AllOrderStatuses lists every OrderStatus in lifecycle order.
var AllOrderStatuses = []OrderStatus{
	OrderPending, OrderConfirmed, OrderInProgress, OrderReady, OrderServed,
	OrderCompleted, OrderCancelled, OrderVoided, OrderArchived,
}

// AllItemStatuses lists every ItemStatus in lifecycle order.
var AllItemStatuses = []ItemStatus{
	ItemPending, ItemPreparing, ItemReady, ItemServed,
	ItemCancelled, ItemVoided, ItemReturned,
}

// orderTransitions is the canonical order-status graph. Statuses with an
// empty set are terminal.
var orderTransitions = map[OrderStatus]map[OrderStatus]struct{}{
	OrderPending:    set(OrderConfirmed, OrderCancelled, OrderVoided),
	OrderConfirmed:  set(OrderInProgress, OrderCancelled, OrderVoided, OrderCompleted),
	OrderInProgress: set(OrderReady, OrderCancelled),
	OrderReady:      set(OrderServed),
	OrderServed:     set(OrderCompleted, OrderCancelled),
	OrderCompleted:  set(OrderArchived),
	OrderCancelled:  {},
	OrderVoided:     {},
	OrderArchived:   {},
}

// itemTransitions is the canonical item-status graph.
var itemTransitions = map[ItemStatus]map[ItemStatus]struct{}{
	ItemPending:   set(ItemPreparing, ItemCancelled, ItemVoided, ItemReturned),
	ItemPreparing: set(ItemReady, ItemCancelled, ItemVoided, ItemReturned),
	ItemReady:     set(ItemServed, ItemReturned, ItemCancelled),
	ItemServed:    {},
	ItemCancelled: {},
	ItemVoided:    {},
	ItemReturned:  {},
}

func set[T comparable](vals ...T) map[T]struct{} {
	out := make(map[T]struct{}, len(vals))
	for _, v := range vals {
		out[v] = struct{}{}
	}
	return out
}

// CanTransitionOrder reports whether an order may move from cur to next.
// Unknown statuses never transition, and no status transitions to itself.
func CanTransitionOrder(cur, next OrderStatus) bool {
	allowed, ok := orderTransitions[cur]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

// CanTransitionItem reports whether an item may move from cur to next.
func CanTransitionItem(cur, next ItemStatus) bool {
	allowed, ok := itemTransitions[cur]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

// CanTransitionTo is the method form of CanTransitionOrder.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool { return CanTransitionOrder(s, next) }

// CanTransitionTo is the method form of CanTransitionItem.
func (s ItemStatus) CanTransitionTo(next ItemStatus) bool { return CanTransitionItem(s, next) }

// IsTerminal reports whether no further order transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	allowed, ok := orderTransitions[s]
	return ok && len(allowed) == 0
}

// IsTerminal reports whether no further item transitions are possible.
func (s ItemStatus) IsTerminal() bool {
	allowed, ok := itemTransitions[s]
	return ok && len(allowed) == 0
}

// ParseOrderStatus normalizes s (case-insensitive) into a known OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := orderTransitions[st]
	return st, ok
}

// ParseItemStatus normalizes s (case-insensitive) into a known ItemStatus.
func ParseItemStatus(s string) (ItemStatus, bool) {
	st := ItemStatus(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := itemTransitions[st]
	return st, ok
}
