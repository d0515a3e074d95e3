package interceptor

// InstallScript wraps fetch and XMLHttpRequest. State lives under window[key]
// so several interceptors, or the page itself, cannot collide. Returns false
// when already installed.
const InstallScript = `(key, base) => {
	if (window[key]) return false;
	const state = { seq: base, pending: 0, events: [] };
	window[key] = state;

	const now = () => new Date().toISOString();
	const bodyOf = (b) => {
		if (b === undefined || b === null) return null;
		if (typeof b === 'string') return b;
		if (typeof URLSearchParams !== 'undefined' && b instanceof URLSearchParams) return b.toString();
		if (typeof FormData !== 'undefined' && b instanceof FormData) {
			const parts = [];
			b.forEach((v, k) => parts.push(encodeURIComponent(k) + '=' + encodeURIComponent(typeof v === 'string' ? v : '[file]')));
			return parts.join('&');
		}
		try { return JSON.stringify(b); } catch (e) { return String(b); }
	};
	const headersOf = (h) => {
		const out = {};
		if (!h) return out;
		try {
			if (typeof Headers !== 'undefined' && h instanceof Headers) {
				h.forEach((v, k) => { out[k] = v; });
			} else if (Array.isArray(h)) {
				h.forEach((p) => { if (p && p.length === 2) out[String(p[0])] = String(p[1]); });
			} else {
				Object.keys(h).forEach((k) => { out[k] = String(h[k]); });
			}
		} catch (e) {}
		return out;
	};
	const begin = (method, url, headers, body) => {
		const seq = state.seq++;
		state.pending++;
		state.events.push({
			kind: 'request', seq: seq, method: String(method || 'GET').toUpperCase(),
			url: String(url), requestHeaders: headers, requestBody: body, timestamp: now()
		});
		return seq;
	};
	const done = (seq, ev) => {
		state.pending = Math.max(0, state.pending - 1);
		ev.seq = seq;
		ev.completedAt = now();
		state.events.push(ev);
	};

	if (typeof window.fetch === 'function') {
		const origFetch = window.fetch;
		window.fetch = function(input, init) {
			const opts = init || {};
			const isReq = typeof Request !== 'undefined' && input instanceof Request;
			const url = isReq ? input.url : input;
			const method = opts.method || (isReq ? input.method : 'GET');
			const headers = headersOf(opts.headers || (isReq ? input.headers : null));
			const seq = begin(method, url, headers, bodyOf(opts.body));
			return origFetch.apply(this, arguments).then((response) => {
				const finish = (text) => done(seq, {
					kind: 'response', status: response.status, statusText: response.statusText,
					responseHeaders: headersOf(response.headers), responseBody: text
				});
				// The clone is read in the background; the page gets response immediately.
				let body = null;
				try { body = response.clone().text(); } catch (e) {}
				if (body && typeof body.then === 'function') {
					body.then((text) => finish(typeof text === 'string' ? text : null), () => finish(null));
				} else {
					finish(null);
				}
				return response;
			}, (err) => {
				done(seq, { kind: 'error', error: String(err) });
				throw err;
			});
		};
	}

	if (typeof XMLHttpRequest === 'function') {
		const proto = XMLHttpRequest.prototype;
		const origOpen = proto.open;
		const origSetHeader = proto.setRequestHeader;
		const origSend = proto.send;
		proto.open = function(method, url) {
			this['__' + key] = { method: method, url: url, headers: {} };
			return origOpen.apply(this, arguments);
		};
		proto.setRequestHeader = function(name, value) {
			const info = this['__' + key];
			if (info) info.headers[name] = String(value);
			return origSetHeader.apply(this, arguments);
		};
		proto.send = function(body) {
			const info = this['__' + key];
			let fail = null;
			if (info) {
				const xhr = this;
				const seq = begin(info.method, info.url, info.headers, bodyOf(body));
				let finished = false;
				fail = (reason) => {
					if (finished) return;
					finished = true;
					done(seq, { kind: 'error', error: reason });
				};
				xhr.addEventListener('load', () => {
					if (finished) return;
					finished = true;
					const headers = {};
					(xhr.getAllResponseHeaders() || '').trim().split(/[\r\n]+/).forEach((line) => {
						const i = line.indexOf(':');
						if (i > 0) headers[line.slice(0, i).trim().toLowerCase()] = line.slice(i + 1).trim();
					});
					let text = null;
					try {
						if (xhr.responseType === '' || xhr.responseType === 'text') text = xhr.responseText;
					} catch (e) {}
					done(seq, {
						kind: 'response', status: xhr.status, statusText: xhr.statusText,
						responseHeaders: headers, responseBody: text
					});
				});
				xhr.addEventListener('error', () => fail('network error'));
				xhr.addEventListener('abort', () => fail('aborted'));
				xhr.addEventListener('timeout', () => fail('timeout'));
			}
			try {
				return origSend.apply(this, arguments);
			} catch (e) {
				if (fail) fail(String(e));
				throw e;
			}
		};
	}
	return true;
}`

// DrainScript takes every queued event. Returns null when the page has no
// interceptor state, for example after a navigation.
const DrainScript = `(key) => {
	const state = window[key];
	if (!state) return null;
	return { pending: state.pending, events: state.events.splice(0, state.events.length) };
}`
