package domain

import (
	"context"
	"fmt"
	"time"
)

// Status is the review state of a postulación. A document always carries
// exactly one of the four values below.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
	StatusWaitlisted Status = "waitlisted"
)

// AllStatuses lists every valid status. Any status may transition to any
// other one: administrators are allowed to correct mistakes, so there is no
// terminal state.
var AllStatuses = []Status{StatusPending, StatusAccepted, StatusRejected, StatusWaitlisted}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusWaitlisted:
		return true
	default:
		return false
	}
}

// Label returns the human-readable name shown in confirmation prompts.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pendiente"
	case StatusAccepted:
		return "Aceptada"
	case StatusRejected:
		return "Rechazada"
	case StatusWaitlisted:
		return "Lista de espera"
	default:
		return string(s)
	}
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Postulacion is one student's application to one volunteer opportunity.
// Student name, email and photo are denormalized onto the document for admin
// display; they are accepted as potentially stale.
type Postulacion struct {
	ID               string    `json:"id" firestore:"-"`
	EstudianteID     string    `json:"estudianteId" firestore:"estudianteId"`
	OportunidadID    string    `json:"oportunidadId" firestore:"oportunidadId"`
	Titulo           string    `json:"titulo" firestore:"titulo"`
	Organizacion     string    `json:"organizacion" firestore:"organizacion"`
	Descripcion      string    `json:"descripcion" firestore:"descripcion"`
	Ubicacion        string    `json:"ubicacion" firestore:"ubicacion"`
	Motivacion       string    `json:"motivacion" firestore:"motivacion"`
	Disponibilidad   string    `json:"disponibilidad" firestore:"disponibilidad"`
	Telefono         string    `json:"telefono,omitempty" firestore:"telefono,omitempty"`
	FotoURL          string    `json:"fotoUrl,omitempty" firestore:"fotoUrl,omitempty"`
	NombreEstudiante string    `json:"nombreEstudiante,omitempty" firestore:"nombreEstudiante,omitempty"`
	EmailEstudiante  string    `json:"emailEstudiante,omitempty" firestore:"emailEstudiante,omitempty"`
	Status           Status    `json:"status" firestore:"status"`
	ApplicationDate  time.Time `json:"applicationDate" firestore:"applicationDate"`
	CreatedAt        time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt" firestore:"updatedAt"`
}

// Scope selects which postulaciones a subscription or query covers.
type Scope struct {
	EstudianteID string
	All          bool
}

func ScopeStudent(estudianteID string) Scope {
	return Scope{EstudianteID: estudianteID}
}

func ScopeAll() Scope {
	return Scope{All: true}
}

// Subscription is a live feed of postulación snapshots. Stop releases the
// underlying listener; after Stop returns no further snapshots are delivered
// and both channels are eventually closed.
type Subscription interface {
	Snapshots() <-chan []Postulacion
	Errs() <-chan error
	Stop()
}

// PostulacionStore is the remote document collection. The store is the single
// source of truth for a postulación's status; all writes go through it and
// local views update only on store-confirmed data.
type PostulacionStore interface {
	GetByID(ctx context.Context, id string) (Postulacion, error)
	QueryByStudent(ctx context.Context, estudianteID string) ([]Postulacion, error)
	QueryAll(ctx context.Context) ([]Postulacion, error)
	Subscribe(ctx context.Context, scope Scope) (Subscription, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
}

// Opportunity is the listing a postulación points at. Read-only here; it is
// fetched on demand for detail display and never mutated by this service.
type Opportunity struct {
	ID           string    `json:"id" firestore:"-"`
	Titulo       string    `json:"titulo" firestore:"titulo"`
	Organizacion string    `json:"organizacion" firestore:"organizacion"`
	Categoria    string    `json:"categoria" firestore:"categoria"`
	Modalidad    string    `json:"modalidad" firestore:"modalidad"`
	Horario      string    `json:"horario" firestore:"horario"`
	Cupos        int       `json:"cupos" firestore:"cupos"`
	FechaLimite  time.Time `json:"fechaLimite" firestore:"fechaLimite"`
	Habilidades  []string  `json:"habilidades" firestore:"habilidades"`
}

type OpportunityStore interface {
	GetOpportunity(ctx context.Context, id string) (Opportunity, error)
}
