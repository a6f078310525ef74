package search

// CaseDocument is what gets indexed for a case.
type CaseDocument struct {
	ID               string `json:"id"`
	OrgID            string `json:"orgId"`
	Caratula         string `json:"caratula"`
	Materia          string `json:"materia"`
	Tribunal         string `json:"tribunal"`
	ClienteNombre    string `json:"clienteNombre"`
	ClienteDocumento string `json:"clienteDocumento"`
	Estado           string `json:"estado"`
}

// Query describes a case search. OrgID is mandatory.
type Query struct {
	OrgID string
	Text  string
	Limit int
}

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return 20
	case q.Limit > 100:
		return 100
	default:
		return q.Limit
	}
}
