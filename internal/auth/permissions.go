package auth

import "strings"

const RoleAdmin = "admin"

// Permissions describes what the UI lets a user do. The API enforces
// the real rules.
type Permissions struct {
	CreateProject bool
	EditProject   bool
	DeleteProject bool
	ManageUsers   bool
	ExportData    bool
	ImportData    bool
}

func metadataRole(m map[string]any) string {
	if r, ok := m["role"].(string); ok {
		return r
	}
	return ""
}

// HasRole checks the role in user or app metadata.
func HasRole(u *User, role string) bool {
	if u == nil {
		return false
	}
	return metadataRole(u.UserMetadata) == role || metadataRole(u.AppMetadata) == role
}

func IsAdmin(u *User) bool {
	return HasRole(u, RoleAdmin)
}

func UserPermissions(u *User) Permissions {
	if IsAdmin(u) {
		return Permissions{
			CreateProject: true,
			EditProject:   true,
			DeleteProject: true,
			ManageUsers:   true,
			ExportData:    true,
			ImportData:    true,
		}
	}
	return Permissions{
		CreateProject: true,
		EditProject:   true,
		ExportData:    true,
		ImportData:    true,
	}
}

// UserInfo is a display-ready summary of a user.
type UserInfo struct {
	ID         string
	Email      string
	Name       string
	Role       string
	AvatarURL  string
	LastSignIn string
	CreatedAt  string
}

func FormatUserInfo(u *User) *UserInfo {
	if u == nil {
		return nil
	}
	info := &UserInfo{
		ID:         u.ID,
		Email:      u.Email,
		LastSignIn: u.LastSignInAt,
		CreatedAt:  u.CreatedAt,
	}
	for _, key := range []string{"full_name", "nombre", "name"} {
		if v, ok := u.UserMetadata[key].(string); ok && v != "" {
			info.Name = v
			break
		}
	}
	if info.Name == "" {
		info.Name, _, _ = strings.Cut(u.Email, "@")
	}
	info.Role = metadataRole(u.UserMetadata)
	if info.Role == "" {
		info.Role = metadataRole(u.AppMetadata)
	}
	if info.Role == "" {
		info.Role = "user"
	}
	info.AvatarURL, _ = u.UserMetadata["avatar_url"].(string)
	return info
}
