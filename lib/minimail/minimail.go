package minimail

import (
	au "bbsgate/lib/asciiutils"
)

// message-id types put in small package so that nntp won't need to pull in whole mail

type FullMsgIDStr string
type CoreMsgIDStr string

func CutMessageIDStr(id FullMsgIDStr) CoreMsgIDStr {
	return CoreMsgIDStr(id[1 : len(id)-1])
}

func ValidMessageIDStr(id FullMsgIDStr) bool {
	return len(id) >= 3 &&
		id[0] == '<' && id[len(id)-1] == '>' && len(id) <= 250 &&
		au.IsPrintableASCIIStr(string(CutMessageIDStr(id)), '>')
}
