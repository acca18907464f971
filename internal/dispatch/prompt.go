package dispatch

import "strings"

// Fixed replies used whenever a backend is unavailable or answers nothing.
const (
	FallbackText   = "¡Hola! ¿Qué modelo te interesa? Puedo ayudarte con precios y opciones."
	FallbackVision = "¡Recibí tu imagen! ¿Qué medida o estilo de espejo estás buscando?"

	// DefaultVisionCaption replaces an empty body on the vision path.
	DefaultVisionCaption = "Analizá la(s) imagen(es) y recomendá un espejo adecuado del catálogo."
)

const textRules = "Reglas: respondé con simpatía, claridad y en no más de 3 líneas. " +
	"Si te piden algo fuera del catálogo, pedí más detalles o derivá a humano."

const visionRules = "Reglas: mirá la(s) imagen(es) que envía el cliente y recomendá un modelo, " +
	"medida o estilo concreto del catálogo, en no más de 4 líneas y con simpatía. " +
	"Si nada del catálogo encaja, pedí más detalles o derivá a humano."

// TextSystemPrompt builds the system message for a text-only exchange.
func TextSystemPrompt(catalog, extra string) string {
	return buildPrompt("Sos un vendedor de espejos. Tenés este catálogo:", catalog, textRules, extra)
}

// VisionSystemPrompt builds the system message for an exchange with images.
func VisionSystemPrompt(catalog, extra string) string {
	return buildPrompt("Sos un vendedor de espejos que asesora a partir de fotos. Tenés este catálogo:", catalog, visionRules, extra)
}

func buildPrompt(persona, catalog, rules, extra string) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteByte('\n')
	b.WriteString(catalog)
	b.WriteString("\n\n")
	b.WriteString(rules)
	if extra = strings.TrimSpace(extra); extra != "" {
		b.WriteString("\n\n")
		b.WriteString(extra)
	}
	return b.String()
}

// VisionCaption returns the caption sent ahead of the images.
func VisionCaption(body string) string {
	if strings.TrimSpace(body) == "" {
		return DefaultVisionCaption
	}
	return body
}
