// Package domain содержит бизнес-сущности и доменные ошибки fulfillment-сервиса.
package domain

import "errors"

// Доменные ошибки fulfillment-сервиса.
// Используются для передачи бизнес-ошибок между слоями приложения;
// HTTP-слой транслирует их в коды ответов.
var (
	// ErrValidation возвращается при нарушении формата или значения входных данных.
	ErrValidation = errors.New("ошибка валидации")

	// ErrOrderNotFound возвращается, когда заказ не найден в базе данных.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrProductNotFound возвращается, когда товар не найден или неактивен.
	ErrProductNotFound = errors.New("товар не найден")

	// ErrInventoryNotFound возвращается, когда строка остатков не найдена.
	ErrInventoryNotFound = errors.New("остатки по товару не найдены")

	// ErrInsufficientInventory возвращается, когда ни один склад
	// не может покрыть запрошенное количество.
	ErrInsufficientInventory = errors.New("недостаточно товара на складах")

	// ErrConcurrencyConflict возвращается при несовпадении версии строки
	// (оптимистичная блокировка). Обрабатывается повторами внутри движка.
	ErrConcurrencyConflict = errors.New("конфликт версий при обновлении")

	// ErrDuplicateOperation возвращается, когда операция с таким ключом
	// идемпотентности уже выполнена.
	ErrDuplicateOperation = errors.New("операция уже выполнена")

	// ErrConcurrentInProgress возвращается, когда операция с таким ключом
	// идемпотентности выполняется прямо сейчас другим вызовом.
	ErrConcurrentInProgress = errors.New("операция уже выполняется")

	// ErrPaymentVerificationFailed возвращается, когда провайдер сообщает
	// о неуспешном платеже или сумма не совпадает с заказом.
	ErrPaymentVerificationFailed = errors.New("платёж не прошёл проверку")

	// ErrExternalService возвращается при временных сбоях внешних систем
	// (БД, платёжный провайдер). Повторяется с backoff.
	ErrExternalService = errors.New("временная ошибка внешнего сервиса")

	// ErrSignatureInvalid возвращается при невалидной подписи webhook.
	ErrSignatureInvalid = errors.New("невалидная подпись webhook")

	// ErrInvalidTransition возвращается при попытке недопустимого
	// перехода статуса заказа.
	ErrInvalidTransition = errors.New("недопустимый переход статуса заказа")

	// ErrOrderCannotCancel возвращается при попытке отменить заказ
	// в терминальном статусе.
	ErrOrderCannotCancel = errors.New("заказ нельзя отменить в текущем статусе")

	// ErrUnauthorized возвращается при невалидных учётных данных
	// или просроченной админ-сессии.
	ErrUnauthorized = errors.New("доступ запрещён")

	// ErrFatalInternal возвращается при обнаружении нарушения инварианта
	// во время выполнения. Заказ может зависнуть до вмешательства оператора.
	ErrFatalInternal = errors.New("внутренняя ошибка: нарушение инварианта")
)
