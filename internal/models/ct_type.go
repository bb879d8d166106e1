package models

// CtType: категория CT-процесса. Name может быть переименован оператором.
type CtType struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
