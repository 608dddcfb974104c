package api

import (
	"net"
	"net/http"
	"strings"
)

// 文档注释：获取访问者 IP（/tz/ip 未给出 ip 参数时作为查询目标，同时用于访客去重）
// 背景：多层代理环境下依次读取常见反向代理头，最后回退远端地址。
// 约束：头部可被伪造，部署于不可信代理链路时需由网关过滤。
func getVisitorIP(r *http.Request) string {
	h := r.Header
	if x := h.Get("x-forwarded-for"); x != "" {
		return strings.TrimSpace(strings.Split(x, ",")[0])
	}
	for _, k := range []string{"cf-connecting-ip", "x-real-ip", "x-client-ip"} {
		if x := h.Get(k); x != "" {
			return strings.TrimSpace(x)
		}
	}
	if x := h.Get("forwarded"); x != "" {
		if i := strings.Index(strings.ToLower(x), "for="); i >= 0 {
			y := x[i+4:]
			if p := strings.IndexAny(y, ";,"); p >= 0 {
				y = y[:p]
			}
			y = strings.Trim(y, "\" ")
			y = strings.TrimSuffix(strings.TrimPrefix(y, "["), "]")
			return y
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
