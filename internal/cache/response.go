package cache

import (
	"net/http"
	"net/textproto"
	"strconv"
)

// CachedResponse 表示一次完整缓冲的源站响应。写入 Store 之后视为只读。
//
// JSON 字段名与磁盘快照格式保持一致，Body 以 base64 编码。
type CachedResponse struct {
	StatusCode     int                 `json:"StatusCode"`
	Headers        map[string][]string `json:"Headers"`
	ContentHeaders map[string][]string `json:"ContentHeaders"`
	Body           []byte              `json:"Body"`
}

// contentHeaderNames 是实体头集合，FromHTTP 据此把响应头拆分为两组。
var contentHeaderNames = map[string]struct{}{
	"Allow":               {},
	"Content-Disposition": {},
	"Content-Encoding":    {},
	"Content-Language":    {},
	"Content-Length":      {},
	"Content-Location":    {},
	"Content-Md5":         {},
	"Content-Range":       {},
	"Content-Type":        {},
	"Expires":             {},
	"Last-Modified":       {},
}

// IsContentHeader 判断 header 是否属于实体头（大小写不敏感）。
func IsContentHeader(name string) bool {
	_, ok := contentHeaderNames[textproto.CanonicalMIMEHeaderKey(name)]
	return ok
}

// FromHTTP 将源站响应拆分为普通头与实体头，构造 CachedResponse。
// 源站未声明 Content-Length 时按实际 body 长度补齐。
func FromHTTP(status int, header http.Header, body []byte) *CachedResponse {
	resp := &CachedResponse{
		StatusCode:     status,
		Headers:        make(map[string][]string),
		ContentHeaders: make(map[string][]string),
		Body:           body,
	}
	if resp.Body == nil {
		resp.Body = []byte{}
	}

	for name, values := range header {
		copied := append([]string(nil), values...)
		if IsContentHeader(name) {
			resp.ContentHeaders[name] = copied
			continue
		}
		resp.Headers[name] = copied
	}

	if _, ok := resp.ContentHeaders["Content-Length"]; !ok {
		resp.ContentHeaders["Content-Length"] = []string{strconv.Itoa(len(resp.Body))}
	}
	return resp
}

// Clone 返回深拷贝，Store 通过它保证已缓存记录不被调用方修改。
func (r *CachedResponse) Clone() *CachedResponse {
	if r == nil {
		return nil
	}
	return &CachedResponse{
		StatusCode:     r.StatusCode,
		Headers:        cloneHeaderMap(r.Headers),
		ContentHeaders: cloneHeaderMap(r.ContentHeaders),
		Body:           append([]byte{}, r.Body...),
	}
}

func cloneHeaderMap(src map[string][]string) map[string][]string {
	dst := make(map[string][]string, len(src))
	for name, values := range src {
		dst[name] = append([]string(nil), values...)
	}
	return dst
}
