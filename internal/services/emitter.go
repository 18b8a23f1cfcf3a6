package services

import "github.com/hermodvoice/hermod/pkg/action"

// Emitter accepts result actions produced by pipeline services. The service
// middleware implements it; services never call the dialog manager directly.
type Emitter interface {
	Dispatch(a action.Action)
}
