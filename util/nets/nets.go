package nets

import (
	"net"
	"strconv"
	"strings"
)

// 检测 地址是否为 IP:端口 格式
func CheckHostAddr(addr string) bool {
	if "" == addr {
		return false
	}

	items := strings.Split(addr, ":")
	if items == nil || len(items) != 2 {
		return false
	}

	i, err := strconv.Atoi(items[1])
	if err != nil {
		return false
	}
	if i < 0 || i > 65535 {
		return false
	}

	return true
}

func IsUsableTcpAddr(addr string) (bool, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false, err
	}
	listener.Close()
	return true, nil
}
