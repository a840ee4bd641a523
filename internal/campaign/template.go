package campaign

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
)

// Render substitutes {{NAME}} placeholders from vars. Missing values render
// empty, unknown placeholders are dropped, runs of three or more newlines
// collapse to two and the result is trimmed.
func Render(tpl string, vars map[string]string) string {
	out := placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		return vars[m[2:len(m)-2]]
	})
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// Template keys.
const (
	KeyExtra    = "extra"
	KeyPostSale = "postSale"
	KeyConfirm  = "confirm"
)

func stepKey(i int) string   { return "step" + strconv.Itoa(i) }
func agendaKey(i int) string { return "agenda" + strconv.Itoa(i) }

const (
	fallbackText     = "Olá! Tudo bem?"
	fallbackReminder = "📅 Lembrete do seu agendamento {{EMPRESA}}."
)

// DefaultTemplates returns the stock message texts. {{EMPRESA}} is the
// configured business name.
func DefaultTemplates() Templates {
	return Templates{
		Messages: map[string]string{
			"step0": "Olá! Tudo bem? Aqui é da {{EMPRESA}} 😊\n" +
				"Passando só para dar continuidade ao seu atendimento. Se ainda tiver interesse, me chama aqui que eu te ajudo com tudo.",
			"step1": "Oi! Aqui é da {{EMPRESA}} novamente 😉\n" +
				"Queria saber se ainda tem interesse na proteção dos vidros do seu carro. Qualquer dúvida, pode falar comigo por aqui.",
			"step2": "Tudo bem? Aqui é da {{EMPRESA}} 🛡️\n" +
				"Não quero te incomodar, só lembrar que aquela condição especial ainda está disponível. Se fizer sentido para você, me chama.",
			"step3": "Olá! Aqui é da {{EMPRESA}} 🚙\n" +
				"Esse é o último lembrete dessa primeira sequência. Se ainda quiser proteger seu carro, será um prazer te atender.",
			KeyExtra: "Olá! Tudo bem? Aqui é da {{EMPRESA}} 😊\n" +
				"Só passando para saber se já é um bom momento para retomarmos a conversa sobre a proteção dos vidros do seu carro.",
			KeyPostSale: "Olá! Aqui é da {{EMPRESA}} 🛡️\n" +
				"Passando para saber se deu tudo certo com a sua proteção e se você conhece alguém que também queira proteger os vidros do carro.\n" +
				"Sua indicação é muito importante para nós! 😊",
			"agenda0": "📅 Lembrete {{EMPRESA}}: faltam 7 dias para seu agendamento ({{DATA}} às {{HORA}}).\n" +
				"Qualquer dúvida antes do dia, estou por aqui. 😉",
			"agenda1": "📅 Lembrete {{EMPRESA}}: faltam 3 dias para seu agendamento ({{DATA}} às {{HORA}}).\n" +
				"Se precisar ajustar algo, me avise por aqui.",
			"agenda2": "📅 Lembrete {{EMPRESA}}: é amanhã o seu agendamento, {{HORA}}.\n" +
				"Te esperamos no horário combinado. 🚗🛡️",
			KeyConfirm: "📅 Confirmação de Agendamento - {{EMPRESA}}\n\n" +
				"Prezado cliente,\n" +
				"confirmamos seu agendamento para o dia {{DATA}} às {{HORA}}.\n\n" +
				"🚗 Veículo: {{VEICULO}}\n" +
				"🛡️ Produto: {{PRODUTO}}\n" +
				"💰 Valor total: {{VALOR}}\n" +
				"💵 Sinal recebido: {{SINAL}} ({{PAGAMENTO}})\n\n" +
				"Agradecemos a confiança. Nossa equipe estará aguardando na data marcada.",
		},
		QuickReplies: []QuickReply{
			{Label: "✅ Enviar horários", Text: "Perfeito! Me diz: qual período você prefere (manhã/tarde)? Aí eu já te mando 2 horários disponíveis pra você escolher 😊"},
			{Label: "📍 Endereço / localização", Text: "Estamos na [ENDERECO]. Quer que eu te mande a localização no Google Maps?"},
			{Label: "🛡️ O que fazemos", Text: "É uma proteção invisível para os vidros do carro, com garantia de 10 anos. Ajuda a evitar riscos, manchas e microtrincas."},
			{Label: "💳 Formas de pagamento", Text: "Temos Pix e cartão (em até 12x). Me diz qual você prefere que eu simule pra você?"},
			{Label: "🚗 Tempo de serviço", Text: "O serviço normalmente leva cerca de 3 a 4 horas. Você deixa o carro e retira no mesmo dia 🙂"},
			{Label: "📆 Agendar agora", Text: "Vamos agendar? Me diz seu modelo/ano e qual dia da semana você prefere que eu já te passo horários."},
			{Label: "🧾 Enviar cotação", Text: "Claro! Me confirma o modelo/ano do carro e o produto que você quer, que eu já te mando a cotação certinha."},
			{Label: "👍 Ok, entendido", Text: "Perfeito! Qualquer coisa estou por aqui 😊"},
		},
	}
}

// messageText picks the stored text for key, then the stock text, then fallback.
func (t Templates) messageText(key, fallback string) string {
	if s := strings.TrimSpace(t.Messages[key]); s != "" {
		return t.Messages[key]
	}
	if s, ok := DefaultTemplates().Messages[key]; ok {
		return s
	}
	return fallback
}
