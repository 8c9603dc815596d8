package codec

import "strings"

// Language returns the declared notebook language, preferring language_info
// over the kernelspec. The result is lower-cased; empty when undeclared.
func Language(doc *Document) string {
	if doc == nil {
		return ""
	}
	if li, ok := doc.Metadata["language_info"].(map[string]any); ok {
		if name, ok := li["name"].(string); ok && name != "" {
			return strings.ToLower(name)
		}
	}
	if ks, ok := doc.Metadata["kernelspec"].(map[string]any); ok {
		if lang, ok := ks["language"].(string); ok && lang != "" {
			return strings.ToLower(lang)
		}
	}
	return ""
}

// KernelName returns metadata.kernelspec.name, if any.
func KernelName(doc *Document) string {
	if doc == nil {
		return ""
	}
	if ks, ok := doc.Metadata["kernelspec"].(map[string]any); ok {
		if name, ok := ks["name"].(string); ok {
			return name
		}
	}
	return ""
}

// PythonVersion reports the numeric python main version hinted by
// metadata.language_info.codemirror_mode.version.
func PythonVersion(doc *Document) (int, bool) {
	if doc == nil {
		return 0, false
	}
	li, ok := doc.Metadata["language_info"].(map[string]any)
	if !ok {
		return 0, false
	}
	mode, ok := li["codemirror_mode"].(map[string]any)
	if !ok {
		return 0, false
	}
	v, ok := mode["version"].(float64)
	if !ok || v <= 0 {
		return 0, false
	}
	return int(v), true
}
