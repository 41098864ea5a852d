package usecases

import (
	"testing"

	"github.com/stretchr/testify/require"

	"support_flow/internal/entities"
)

func TestShouldCreateTicket(t *testing.T) {
	engine := NewFlowEngine(nil)
	benign := entities.Analysis{Intent: "consulta_general", Urgency: "bajo"}

	tests := []struct {
		name     string
		text     string
		analysis entities.Analysis
		want     bool
	}{
		{"keyword fallback with benign intent", "No funciona el internet", benign, true},
		{"no signal", "Todo bien gracias", benign, false},
		{"ticket intent", "hola", entities.Analysis{Intent: "crear_ticket"}, true},
		{"problem report intent", "hola", entities.Analysis{Intent: "Reporte_Falla"}, true},
		{
			"urgent with problem entity",
			"hola",
			entities.Analysis{Intent: "consulta_general", Urgency: "alto", Entities: entities.Entities{"problem_description": "sin conexión"}},
			true,
		},
		{
			"low urgency with problem entity",
			"hola",
			entities.Analysis{Intent: "consulta_general", Urgency: "bajo", Entities: entities.Entities{"problem_description": "sin conexión"}},
			false,
		},
		{
			"urgent without problem entity",
			"hola",
			entities.Analysis{Intent: "consulta_general", Urgency: "medio", Entities: entities.Entities{"date": "2024-01-08"}},
			false,
		},
		{"technician phrase", "Necesito un TÉCNICO en casa", benign, true},
		{"outage phrase", "estamos sin internet desde ayer", benign, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, engine.ShouldCreateTicket(tt.text, tt.analysis))
		})
	}
}
