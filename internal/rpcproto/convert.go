package rpcproto

import "github.com/ovnet/fedvault/internal/vaultapi"

func ToKindMsg(k vaultapi.Kind) KindMsg {
	if k == vaultapi.KindDirectory {
		return KindDirectoryMsg
	}
	return KindFileMsg
}

func FromKindMsg(k KindMsg) vaultapi.Kind {
	if k == KindDirectoryMsg {
		return vaultapi.KindDirectory
	}
	return vaultapi.KindFile
}

func ToVersionMsg(v vaultapi.Version) VersionMsg {
	return VersionMsg{Major: v.Major, Minor: v.Minor}
}

func FromVersionMsg(v VersionMsg) vaultapi.Version {
	return vaultapi.Version{Major: v.Major, Minor: v.Minor}
}

func ToFileMetaMsg(m vaultapi.FileMeta) FileMetaMsg {
	return FileMetaMsg{
		Inode: m.Inode, Name: m.Name, Kind: ToKindMsg(m.Kind),
		Atime: m.Atime, Mtime: m.Mtime, Version: ToVersionMsg(m.Version), Parent: m.Parent,
	}
}

func FromFileMetaMsg(m FileMetaMsg) vaultapi.FileMeta {
	return vaultapi.FileMeta{
		Inode: m.Inode, Name: m.Name, Kind: FromKindMsg(m.Kind),
		Atime: m.Atime, Mtime: m.Mtime, Version: FromVersionMsg(m.Version), Parent: m.Parent,
	}
}
