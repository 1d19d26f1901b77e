package utils

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ASCIISafeFilename 生成下载文件名的ASCII回退形式：
// NFKD 分解后丢弃非ASCII字符，去掉引号，路径分隔符替换为下划线，
// 去掉前导点。扩展名无论输入如何都强制为 .png（唯一支持的输出格式）。
func ASCIISafeFilename(name string) string {
	normalized := norm.NFKD.String(name)

	var b strings.Builder
	for _, r := range normalized {
		if r < 128 {
			b.WriteRune(r)
		}
	}

	cleaned := b.String()
	cleaned = strings.ReplaceAll(cleaned, `"`, "")
	cleaned = strings.ReplaceAll(cleaned, "'", "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.ReplaceAll(cleaned, "/", "_")
	cleaned = strings.ReplaceAll(cleaned, `\`, "_")
	cleaned = strings.TrimLeft(cleaned, ".")

	ext := filepath.Ext(cleaned)
	stem := strings.TrimSuffix(cleaned, ext)
	if stem == "" {
		stem = "rgbde_result"
	}

	return stem + ".png"
}

// PercentEncode 按 RFC 5987 attr-char 对文件名做百分号编码，
// 用于 Content-Disposition 的 filename* 参数，保留原始Unicode名称。
func PercentEncode(name string) string {
	var b strings.Builder
	for _, c := range []byte(name) {
		if isAttrChar(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}
