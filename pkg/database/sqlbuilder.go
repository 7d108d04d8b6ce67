package database

import "github.com/huandu/go-sqlbuilder"

// ForUpdate appends a row lock to a select.
func ForUpdate(sb *sqlbuilder.SelectBuilder) *sqlbuilder.SelectBuilder {
	sb.SQL("FOR UPDATE")
	return sb
}
