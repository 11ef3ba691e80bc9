package cache

import (
	"net/http"
	"net/textproto"
	"strings"
)

// KeyDelimiter 分隔缓存键中的各个组成部分。
const KeyDelimiter = "|"

// KeyHeaders 是参与缓存键计算的请求头白名单，顺序即拼接顺序。
var KeyHeaders = []string{"Accept", "Accept-Language", "Authorization"}

// BuildKey 由方法、路径、查询串（含前导 "?" 或为空）与白名单请求头生成确定性的缓存键，
// 例如 GET|/items?id=1|Accept:application/json。
//
// 缺失的白名单头不贡献任何内容，连占位符也没有。
func BuildKey(method, path, query string, header http.Header) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteString(KeyDelimiter)
	b.WriteString(path)
	b.WriteString(query)

	for _, name := range KeyHeaders {
		values, ok := header[textproto.CanonicalMIMEHeaderKey(name)]
		if !ok {
			continue
		}
		b.WriteString(KeyDelimiter)
		b.WriteString(name)
		b.WriteString(":")
		b.WriteString(strings.Join(values, ","))
	}
	return b.String()
}
