package domain

// PermitType enumerates the permit products the engine can issue.
type PermitType string

const (
	PermitTypeTermOversize       PermitType = "TROS"
	PermitTypeTermOverweight     PermitType = "TROW"
	PermitTypeSingleTripOversize PermitType = "STOS"
	PermitTypeSingleTripOverwt   PermitType = "STOW"
)

// AllPermitTypes lists known permit types.
var AllPermitTypes = []PermitType{
	PermitTypeTermOversize,
	PermitTypeTermOverweight,
	PermitTypeSingleTripOversize,
	PermitTypeSingleTripOverwt,
}
