package digest

func (a *Authenticator) SetNonceCount(nc uint32) { a.nc = nc }
