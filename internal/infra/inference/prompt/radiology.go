package prompt

import "fmt"

const systemPrompt = `You are an expert radiologist specializing in tuberculosis detection from chest X-rays.

Please analyze this chest X-ray image carefully and provide a detailed report focusing on:

1. Overall image quality and positioning
2. Lung fields examination (upper, middle, lower zones)
3. Specific signs of tuberculosis including:
   - Cavitary lesions
   - Consolidation patterns
   - Pleural effusion
   - Hilar lymphadenopathy
   - Miliary patterns
   - Fibrotic changes
   - Calcifications
4. Other relevant findings
5. Clinical correlation recommendations

Pay special attention to any findings that could suggest active or inactive tuberculosis. If you see any suspicious lesions, describe their location, size, and characteristics in detail.

Provide your assessment with confidence levels for any TB-related findings.`

const userPrompt = "Please analyze this chest X-ray for tuberculosis and other findings:"

// ProbePrompt is the trivial instruction sent with the connectivity probe.
const ProbePrompt = "Test connection"

// GetSystemPrompt returns the radiologist instruction block.
func GetSystemPrompt() string { return systemPrompt }

// GetUserPrompt returns the short per-image instruction.
func GetUserPrompt() string { return userPrompt }

// Diagnostic joins both prompts for endpoints that take a single text field.
func Diagnostic() string {
	return fmt.Sprintf("%s\n\n%s", systemPrompt, userPrompt)
}
