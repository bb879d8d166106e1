package models

// Customer: внешняя сущность CRM; ядру нужна только якорная дата.
// CtPeriodStart хранится так, как её ввели в UI: "dd/mm/yyyy" или "yyyy-mm-dd".
type Customer struct {
	ID            int64  `db:"id" json:"id"`
	Name          string `db:"name" json:"name"`
	CtPeriodStart string `db:"ct_period_start" json:"ct_period_start,omitempty"`
}
