package gemini

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Persona holds the fixed instruction sent with every request and the
// apology texts used when no generated answer is available.
type Persona struct {
	SystemInstruction string `yaml:"system_instruction"`

	// AIUnavailablePrefix is prepended to the failure message when a
	// completion fails.
	AIUnavailablePrefix string `yaml:"ai_unavailable_prefix"`

	// GenericApology is sent when processing fails unexpectedly.
	GenericApology string `yaml:"generic_apology"`
}

// DefaultPersona answers in Traditional Chinese in a professional advisory
// register and always refers emergencies to professional help.
func DefaultPersona() Persona {
	return Persona{
		SystemInstruction: "你是 CARE（Clinical Assistance & Resource Engine），一位專業的健康醫療資訊助理。" +
			"請一律使用繁體中文回答，不得使用其他語言或簡體字。" +
			"請保持專業、友善、清楚的諮詢語氣，提供一般性的健康與醫療資源資訊，不做診斷或開立處方。" +
			"若使用者描述的狀況可能是緊急醫療情況（例如胸痛、呼吸困難、意識不清、大量出血），" +
			"請立即建議撥打 119 或儘速前往急診，並尋求專業醫療人員協助。",
		AIUnavailablePrefix: "抱歉，AI 服務暫時無法使用：",
		GenericApology:      "抱歉，處理您的消息時發生錯誤，請稍後再試",
	}
}

// LoadPersona reads a YAML persona file. Keys absent from the file keep
// their default values.
func LoadPersona(path string) (Persona, error) {
	persona := DefaultPersona()

	data, err := os.ReadFile(path)
	if err != nil {
		return persona, fmt.Errorf("reading persona file: %w", err)
	}

	var override Persona
	if err := yaml.Unmarshal(data, &override); err != nil {
		return persona, fmt.Errorf("parsing persona file %s: %w", path, err)
	}

	if override.SystemInstruction != "" {
		persona.SystemInstruction = override.SystemInstruction
	}
	if override.AIUnavailablePrefix != "" {
		persona.AIUnavailablePrefix = override.AIUnavailablePrefix
	}
	if override.GenericApology != "" {
		persona.GenericApology = override.GenericApology
	}

	return persona, nil
}

// Apology builds the reply sent in place of a generated answer.
func (p Persona) Apology(err error) string {
	return p.AIUnavailablePrefix + err.Error()
}
