// Package storage provides the SQLite persistence layer: campaign records
// with their status state machine, and the recipient population the audience
// segmenter queries.
package storage
