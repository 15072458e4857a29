// Package models contains the GORM persistence models. Models are pure data
// carriers: every model converts to and from its domain type and carries no
// behavior of its own.
package models
