package model

import "errors"

// Ошибки предметной области. Все они вызваны действиями клиента и не оставляют частичных
// изменений: заказ, эскроу и журнал остаются в состоянии до вызова.
var (
	// ErrInvalidTransition возвращается, если из текущего статуса заказа нет перехода для события.
	ErrInvalidTransition = errors.New("invalid order transition")
	// ErrUnauthorizedActor возвращается, если роль вызывающего не допускает операцию.
	ErrUnauthorizedActor = errors.New("actor is not allowed to perform this operation")
	// ErrOrderClosed возвращается при попытке перехода из терминального статуса.
	ErrOrderClosed = errors.New("order is closed")
	// ErrInsufficientFunds возвращается, если после списания баланс стал бы отрицательным.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidHoldState возвращается, если эскроу-холд не находится в нужном статусе.
	ErrInvalidHoldState = errors.New("invalid escrow hold state")
	// ErrDisputeAlreadyResolved возвращается при работе с уже разрешённым спором.
	ErrDisputeAlreadyResolved = errors.New("dispute already resolved")
	// ErrInvalidOrderState возвращается, если заказ не в том статусе, в котором можно открыть спор.
	ErrInvalidOrderState = errors.New("order is not in a state that allows this operation")

	ErrNotFound           = errors.New("not found")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrDisputeExists      = errors.New("dispute already exists for this order")
	ErrAlreadyResponded   = errors.New("dispute already has a response")
	ErrRevisionLimit      = errors.New("maximum revisions exceeded")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrListingInactive    = errors.New("service listing is not active")
	ErrInvalidOutcome     = errors.New("invalid dispute outcome")
	ErrInvalidInput       = errors.New("invalid input")
	ErrReviewExists       = errors.New("order already reviewed by this user")
	// ErrDuplicateNumber возвращается, если сгенерированный номер заказа уже занят.
	ErrDuplicateNumber = errors.New("order number already exists")
	// ErrAccountBusy возвращается при закрытии счёта, на котором остались средства в эскроу или заработок.
	ErrAccountBusy = errors.New("account has funds in escrow or unpaid earnings")

	// ErrUnavailable оборачивает сбои хранилища. Операцию безопасно повторить:
	// атомарная единица либо зафиксирована целиком, либо не применена.
	ErrUnavailable = errors.New("storage unavailable")
)
