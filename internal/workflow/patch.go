package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"lexflow.io/internal/apperr"
)

// Optional marks a field as present in an update. A JSON null on a pointer
// field is present with a nil value and clears the column.
type Optional[T any] struct {
	Set   bool
	Value T
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// UnmarshalJSON rejects null for non-pointer T, which has no way to clear.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) && reflect.TypeFor[T]().Kind() != reflect.Pointer {
		return fmt.Errorf("%w: null is not allowed for a %s field", apperr.ErrInvalidInput, reflect.TypeFor[T]())
	}
	o.Set = true
	return json.Unmarshal(b, &o.Value)
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Assignment is one column write.
type Assignment struct {
	Column string
	Value  any
}

// StagePatch lists every field a stage update may touch. Absent fields are
// never written. Estado cannot be moved to completado here; completion goes
// through its own operation.
type StagePatch struct {
	Etapa           Optional[string]     `json:"etapa"`
	Descripcion     Optional[*string]    `json:"descripcion"`
	Orden           Optional[int]        `json:"orden"`
	Estado          Optional[Estado]     `json:"estado"`
	FechaProgramada Optional[*time.Time] `json:"fecha_programada"`
	ResponsableID   Optional[*string]    `json:"responsable_id"`
	RequierePago    Optional[bool]       `json:"requiere_pago"`
	CostoCalculado  Optional[*float64]   `json:"costo_calculado"`
	CostoFinal      Optional[*float64]   `json:"costo_final"`
	EstadoPago      Optional[EstadoPago] `json:"estado_pago"`
	EsPublica       Optional[bool]       `json:"es_publica"`
	Notas           Optional[*string]    `json:"notas"`
}

func assign[T any](out []Assignment, column string, o Optional[T]) []Assignment {
	if !o.Set {
		return out
	}
	return append(out, Assignment{Column: column, Value: o.Value})
}

func apply[T any](dst *T, o Optional[T]) {
	if o.Set {
		*dst = o.Value
	}
}

// Assignments returns the column writes in a stable order.
func (p StagePatch) Assignments() []Assignment {
	var out []Assignment
	out = assign(out, "etapa", p.Etapa)
	out = assign(out, "descripcion", p.Descripcion)
	out = assign(out, "orden", p.Orden)
	out = assign(out, "estado", p.Estado)
	out = assign(out, "fecha_programada", p.FechaProgramada)
	out = assign(out, "responsable_id", p.ResponsableID)
	out = assign(out, "requiere_pago", p.RequierePago)
	out = assign(out, "costo_calculado", p.CostoCalculado)
	out = assign(out, "costo_final", p.CostoFinal)
	out = assign(out, "estado_pago", p.EstadoPago)
	out = assign(out, "es_publica", p.EsPublica)
	out = assign(out, "notas", p.Notas)
	return out
}

// Apply merges the present fields into s.
func (p StagePatch) Apply(s *Stage) {
	apply(&s.Etapa, p.Etapa)
	apply(&s.Descripcion, p.Descripcion)
	apply(&s.Orden, p.Orden)
	apply(&s.Estado, p.Estado)
	apply(&s.FechaProgramada, p.FechaProgramada)
	apply(&s.ResponsableID, p.ResponsableID)
	apply(&s.RequierePago, p.RequierePago)
	apply(&s.CostoCalculado, p.CostoCalculado)
	apply(&s.CostoFinal, p.CostoFinal)
	apply(&s.EstadoPago, p.EstadoPago)
	apply(&s.EsPublica, p.EsPublica)
	apply(&s.Notas, p.Notas)
}

func (p StagePatch) Empty() bool {
	return len(p.Assignments()) == 0
}

// Validate checks the present fields.
func (p StagePatch) Validate() error {
	if p.Etapa.Set && strings.TrimSpace(p.Etapa.Value) == "" {
		return fmt.Errorf("%w: etapa cannot be blank", apperr.ErrInvalidInput)
	}
	if p.Orden.Set && p.Orden.Value < 0 {
		return fmt.Errorf("%w: orden must be non-negative", apperr.ErrInvalidInput)
	}
	if p.Estado.Set {
		if !p.Estado.Value.Valid() {
			return fmt.Errorf("%w: unknown estado %q", apperr.ErrInvalidInput, p.Estado.Value)
		}
		if p.Estado.Value == EstadoCompletado {
			return fmt.Errorf("%w: use stage completion to mark a stage completado", apperr.ErrInvalidInput)
		}
	}
	if p.EstadoPago.Set && !p.EstadoPago.Value.Valid() {
		return fmt.Errorf("%w: unknown estado_pago %q", apperr.ErrInvalidInput, p.EstadoPago.Value)
	}
	for _, c := range []Optional[*float64]{p.CostoCalculado, p.CostoFinal} {
		if c.Set && c.Value != nil && *c.Value < 0 {
			return fmt.Errorf("%w: costs must be non-negative", apperr.ErrInvalidInput)
		}
	}
	return nil
}

// Diff renders the present fields for the audit trail.
func (p StagePatch) Diff() map[string]any {
	out := make(map[string]any)
	for _, a := range p.Assignments() {
		out[a.Column] = a.Value
	}
	return out
}
