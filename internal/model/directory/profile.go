package directory

// Profile is the read-only projection of a user in the identity/tenant
// store. Fields back the fast-path direct answers.
type Profile struct {
	UserID        string `json:"userId"`
	TenantID      string `json:"tenantId"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Department    string `json:"department"`
	ManagerName   string `json:"managerName"`
	AdmissionDate string `json:"admissionDate"`
	Role          string `json:"role"`
}

// Store exposes profile retrieval for the session router and responder.
type Store interface {
	FindByUser(userID, tenantID string) (Profile, bool)
}

// MemoryStore implements Store with an in-memory slice, suitable while the
// identity service is an external collaborator.
type MemoryStore struct {
	items []Profile
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
func NewMemoryStore(items []Profile) *MemoryStore {
	return &MemoryStore{items: append([]Profile(nil), items...)}
}

// FindByUser looks up a profile by user and tenant.
func (s *MemoryStore) FindByUser(userID, tenantID string) (Profile, bool) {
	for _, item := range s.items {
		if item.UserID == userID && item.TenantID == tenantID {
			return item, true
		}
	}
	return Profile{}, false
}

// Seed returns demo profiles for local runs.
func Seed() []Profile {
	return []Profile{
		{
			UserID:        "u-1001",
			TenantID:      "acme",
			Name:          "Mariana Lopes",
			Email:         "mariana.lopes@acme.com.br",
			Department:    "Financeiro",
			ManagerName:   "Carlos Menezes",
			AdmissionDate: "2021-03-15",
			Role:          "Analista",
		},
		{
			UserID:        "u-1002",
			TenantID:      "acme",
			Name:          "João Pereira",
			Email:         "joao.pereira@acme.com.br",
			Department:    "Operações",
			ManagerName:   "Renata Silva",
			AdmissionDate: "2019-08-01",
			Role:          "Coordenador",
		},
	}
}
