package db

var Separator = []byte("|")

// PrependNamespace builds the physical key namespace|key.
func PrependNamespace(namespace []byte, key []byte) []byte {
	if namespace != nil {
		out := make([]byte, 0, len(namespace)+len(Separator)+len(key))
		out = append(out, namespace...)
		out = append(out, Separator...)
		return append(out, key...)
	}
	return key
}

// StripNamespace is the inverse of PrependNamespace.
func StripNamespace(namespace []byte, key []byte) []byte {
	prefixLen := len(namespace) + len(Separator)
	if namespace == nil || len(key) < prefixLen {
		return key
	}
	return key[prefixLen:]
}

// NamespaceRange returns the [start, end) bounds covering every key in namespace.
func NamespaceRange(namespace []byte) (start []byte, end []byte) {
	start = PrependNamespace(namespace, nil)
	end = append([]byte{}, start...)
	end[len(end)-1]++
	return start, end
}

func ConvNilToBytes(byteArray []byte) []byte {
	if byteArray == nil {
		return []byte{}
	}
	return byteArray
}
