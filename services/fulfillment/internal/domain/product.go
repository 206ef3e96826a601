package domain

import "time"

// Product — товар каталога. Read-mostly: каталог наполняется out-of-band,
// fulfillment только читает его при создании заказа.
type Product struct {
	ID          string    // ID товара
	Name        string    // Название
	Description string    // Описание
	Price       int64     // Цена в минимальных единицах валюты
	Category    string    // Категория
	ImageURL    *string   // Ссылка на изображение (опционально)
	Active      bool      // Неактивные товары отклоняются при создании заказа
	CreatedAt   time.Time // Дата создания
	UpdatedAt   time.Time // Дата последнего обновления
}
