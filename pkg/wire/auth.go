package wire

import (
	"fmt"

	"github.com/dataview/dataview/pkg/dataerr"
)

// ResolvePassword builds the frontend response to an Authentication
// message. Cleartext is supported; MD5 is recognized but rejected with
// an explicit error naming the limitation, per the connection startup
// contract.
func ResolvePassword(auth Authentication, password Secret) (PasswordMessage, error) {
	switch auth.Kind {
	case AuthCleartextPassword:
		if password.Empty() {
			return PasswordMessage{}, &dataerr.AuthenticationError{
				Error:  dataerr.Error{Op: "wire.ResolvePassword", Kind: dataerr.KindAuthentication, Err: fmt.Errorf("server requested cleartext password but none configured")},
				Method: "cleartext",
			}
		}
		return PasswordMessage{Password: password.String()}, nil
	case AuthMD5Password:
		return PasswordMessage{}, &dataerr.AuthenticationError{
			Error:  dataerr.Error{Op: "wire.ResolvePassword", Kind: dataerr.KindAuthentication, Err: fmt.Errorf("md5 authentication is not implemented")},
			Method: "md5",
		}
	default:
		return PasswordMessage{}, &dataerr.AuthenticationError{
			Error:  dataerr.Error{Op: "wire.ResolvePassword", Kind: dataerr.KindAuthentication, Err: fmt.Errorf("unexpected authentication kind %d outside startup", auth.Kind)},
		}
	}
}
